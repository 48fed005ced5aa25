package docker

import "testing"

func TestParsePortMappings(t *testing.T) {
	got, err := ParsePortMappings([]string{"25565:25565", "19132:19132/udp"})
	if err != nil {
		t.Fatalf("ParsePortMappings: %v", err)
	}
	if len(got) != 2 || got[0].Protocol != "tcp" || got[1].Protocol != "udp" || got[1].Host != "19132" {
		t.Errorf("got %+v", got)
	}
	if got[0].String() != "25565:25565/tcp" {
		t.Errorf("String() = %s", got[0])
	}

	for _, bad := range []string{"25565", ":25565", "1:abc", "1:2/sctp"} {
		if _, err := ParsePortMappings([]string{bad}); err == nil {
			t.Errorf("ParsePortMappings(%q) succeeded", bad)
		}
	}
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"2G", 2 << 30},
		{"512m", 512 << 20},
		{"64K", 64 << 10},
		{"1000", 1000},
	}
	for _, tt := range tests {
		got, err := ParseMemory(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMemory(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseMemory("lots"); err == nil {
		t.Error("ParseMemory(lots) succeeded")
	}
}

func TestDefaultSpec(t *testing.T) {
	spec, ok := DefaultSpec("minecraft")
	if !ok || spec.Image == "" || len(spec.Ports) == 0 {
		t.Fatalf("DefaultSpec(minecraft) = %+v, %v", spec, ok)
	}
	if env := spec.EnvList(); len(env) != 2 || env[0] != "ENABLE_RCON=true" || env[1] != "EULA=TRUE" {
		t.Errorf("EnvList = %v", env)
	}
	if _, ok := DefaultSpec("tetris"); ok {
		t.Error("unknown game has a default spec")
	}
}

func TestStatsUsage(t *testing.T) {
	var s statsJSON
	s.CPUStats.CPUUsage.TotalUsage = 400
	s.PreCPUStats.CPUUsage.TotalUsage = 200
	s.CPUStats.SystemCPUUsage = 2000
	s.PreCPUStats.SystemCPUUsage = 1000
	s.CPUStats.OnlineCPUs = 4
	s.MemoryStats = memoryStats{Usage: 1000, Limit: 4000, Stats: map[string]uint64{"inactive_file": 200}}
	s.Networks = map[string]networkStats{"eth0": {RxBytes: 10, TxBytes: 20}, "eth1": {RxBytes: 1, TxBytes: 2}}

	u := s.usage()
	if u.CPUPercent != 80 {
		t.Errorf("CPUPercent = %v, want 80", u.CPUPercent)
	}
	if u.MemoryBytes != 800 || u.MemoryLimit != 4000 {
		t.Errorf("memory = %d/%d", u.MemoryBytes, u.MemoryLimit)
	}
	if u.NetworkRx != 11 || u.NetworkTx != 22 {
		t.Errorf("network = %d/%d", u.NetworkRx, u.NetworkTx)
	}
}

func TestCPUPercentCounterReset(t *testing.T) {
	var cur, pre cpuStats
	cur.CPUUsage.TotalUsage = 10
	pre.CPUUsage.TotalUsage = 100
	cur.SystemCPUUsage = 2000
	pre.SystemCPUUsage = 1000
	if got := cpuPercent(cur, pre); got != 0 {
		t.Errorf("cpuPercent after reset = %v", got)
	}
}
