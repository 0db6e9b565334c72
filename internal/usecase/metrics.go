package usecase

type noopMetrics struct{}

func (noopMetrics) RecordCacheResult(string)                 {}
func (noopMetrics) RecordCacheEviction()                     {}
func (noopMetrics) RecordBackendCall(string, float64, error) {}
func (noopMetrics) SetPendingRequests(int)                   {}
func (noopMetrics) RecordTransition(string, string, string)  {}
func (noopMetrics) RecordMerge(bool)                         {}
func (noopMetrics) RecordDiscard(string)                     {}
func (noopMetrics) RecordError(string)                       {}
