package docker

// Subset of the engine's stats document.
type statsJSON struct {
	CPUStats    cpuStats                `json:"cpu_stats"`
	PreCPUStats cpuStats                `json:"precpu_stats"`
	MemoryStats memoryStats             `json:"memory_stats"`
	Networks    map[string]networkStats `json:"networks"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
	SystemCPUUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs     uint64 `json:"online_cpus"`
}

type memoryStats struct {
	Usage uint64            `json:"usage"`
	Limit uint64            `json:"limit"`
	Stats map[string]uint64 `json:"stats"`
}

type networkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

func (s statsJSON) usage() Usage {
	u := Usage{
		CPUPercent:  cpuPercent(s.CPUStats, s.PreCPUStats),
		MemoryBytes: int64(s.MemoryStats.Usage),
		MemoryLimit: int64(s.MemoryStats.Limit),
	}
	// cgroup v2 reports page cache as inactive_file; docker stats subtracts it
	if cache, ok := s.MemoryStats.Stats["inactive_file"]; ok && cache < s.MemoryStats.Usage {
		u.MemoryBytes -= int64(cache)
	}
	for _, n := range s.Networks {
		u.NetworkRx += int64(n.RxBytes)
		u.NetworkTx += int64(n.TxBytes)
	}
	return u
}

func cpuPercent(cur, pre cpuStats) float64 {
	if cur.CPUUsage.TotalUsage < pre.CPUUsage.TotalUsage || cur.SystemCPUUsage <= pre.SystemCPUUsage {
		return 0
	}
	cpuDelta := float64(cur.CPUUsage.TotalUsage - pre.CPUUsage.TotalUsage)
	systemDelta := float64(cur.SystemCPUUsage - pre.SystemCPUUsage)

	cpus := float64(cur.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return (cpuDelta / systemDelta) * cpus * 100.0
}
