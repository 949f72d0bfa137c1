package netagent

import (
	"encoding/json"
	"sort"
	"time"
)

// DeviceFailure captures one device's failed outcome with its classified
// diagnostics.
type DeviceFailure struct {
	Message string
	Detail  ErrorDetail
}

// BatchResult aggregates one batch invocation.
//
// Invariant: len(Outputs) + len(Failures) == TotalDevices, and every
// targeted device appears in exactly one of the two maps. Partial failure is
// a normal result, not an error.
type BatchResult struct {
	Command      string
	TotalDevices int
	Outputs      map[string]string
	Failures     map[string]DeviceFailure
	Elapsed      time.Duration
	CacheHits    int
	CacheMisses  int
	// BatchError is set only for pre-dispatch failures (validation
	// rejection, empty target set); no devices are contacted when present.
	BatchError *DeviceFailure
}

// SuccessCount returns the number of devices that produced output.
func (r *BatchResult) SuccessCount() int {
	return len(r.Outputs)
}

// FailureCount returns the number of devices that failed.
func (r *BatchResult) FailureCount() int {
	return len(r.Failures)
}

// batchSummary is the machine-readable projection of a BatchResult.
type batchSummary struct {
	Summary struct {
		Command              string     `json:"command"`
		TotalDevices         int        `json:"total_devices"`
		SuccessfulDevices    int        `json:"successful_devices"`
		FailedDevices        int        `json:"failed_devices"`
		ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
		CacheStats           cacheStats `json:"cache_stats"`
	} `json:"summary"`
	Error             *failedResult   `json:"error,omitempty"`
	SuccessfulResults []successResult `json:"successful_results"`
	FailedResults     []failedResult  `json:"failed_results"`
}

type cacheStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

type successResult struct {
	Device string `json:"device"`
	Output string `json:"output"`
}

type failedResult struct {
	Device       string       `json:"device"`
	ErrorMessage string       `json:"error_message"`
	ErrorDetails errorDetails `json:"error_details"`
}

type errorDetails struct {
	Type       string `json:"type"`
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
}

// MarshalJSON renders the serialized projection consumed by machine callers.
// Device entries are emitted in address order so repeated marshals of the
// same result are byte-identical.
func (r *BatchResult) MarshalJSON() ([]byte, error) {
	var doc batchSummary
	doc.Summary.Command = r.Command
	doc.Summary.TotalDevices = r.TotalDevices
	doc.Summary.SuccessfulDevices = r.SuccessCount()
	doc.Summary.FailedDevices = r.FailureCount()
	doc.Summary.ExecutionTimeSeconds = r.Elapsed.Seconds()
	doc.Summary.CacheStats = cacheStats{Hits: r.CacheHits, Misses: r.CacheMisses}

	if r.BatchError != nil {
		doc.Error = &failedResult{
			ErrorMessage: r.BatchError.Message,
			ErrorDetails: errorDetails{
				Type:       r.BatchError.Detail.Type,
				Category:   r.BatchError.Detail.Category,
				Suggestion: r.BatchError.Detail.Suggestion,
			},
		}
	}

	doc.SuccessfulResults = make([]successResult, 0, len(r.Outputs))
	for addr, output := range r.Outputs {
		doc.SuccessfulResults = append(doc.SuccessfulResults, successResult{Device: addr, Output: output})
	}
	sort.Slice(doc.SuccessfulResults, func(i, j int) bool {
		return doc.SuccessfulResults[i].Device < doc.SuccessfulResults[j].Device
	})

	doc.FailedResults = make([]failedResult, 0, len(r.Failures))
	for addr, failure := range r.Failures {
		doc.FailedResults = append(doc.FailedResults, failedResult{
			Device:       addr,
			ErrorMessage: failure.Message,
			ErrorDetails: errorDetails{
				Type:       failure.Detail.Type,
				Category:   failure.Detail.Category,
				Suggestion: failure.Detail.Suggestion,
			},
		})
	}
	sort.Slice(doc.FailedResults, func(i, j int) bool {
		return doc.FailedResults[i].Device < doc.FailedResults[j].Device
	})

	return json.Marshal(doc)
}
