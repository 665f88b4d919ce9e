package pipeline

// EngineHooks receives engine events. Nil funcs are skipped.
type EngineHooks struct {
	OnStage    func(stage string, duration float64, degraded bool)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run for observers.
type CompleteEvent struct {
	Status       Status
	Duration     float64
	Items        int
	Degraded     int
	ClusterSizes []int
	Alerts       map[string]int // alert level -> count
}

func (h EngineHooks) stage(name string, duration float64, degraded bool) {
	if h.OnStage != nil {
		h.OnStage(name, duration, degraded)
	}
}

func (h EngineHooks) complete(rr *RunResult) {
	if h.OnComplete == nil {
		return
	}
	e := &CompleteEvent{
		Status:   rr.Status,
		Duration: rr.Duration,
		Items:    rr.TotalCount,
		Degraded: rr.Degraded,
		Alerts:   make(map[string]int),
	}
	for _, c := range rr.Clusters {
		e.ClusterSizes = append(e.ClusterSizes, len(c))
	}
	for _, a := range rr.Alerts {
		e.Alerts[string(a.AlertLevel)]++
	}
	h.OnComplete(e)
}
