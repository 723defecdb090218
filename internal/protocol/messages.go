package protocol

import "time"

// Stats is the parsed summary of one wrk run, sent by a wasp on success.
// Latencies are milliseconds, Read is bytes and TPS is bytes per second.
type Stats struct {
	Latency            Spread      `json:"latency" yaml:"latency"`
	RPS                Spread      `json:"rps" yaml:"rps"`
	TotalRequests      int64       `json:"totalRequests" yaml:"totalRequests"`
	TotalRPS           float64     `json:"totalRPS" yaml:"totalRPS"`
	Read               float64     `json:"read" yaml:"read"`
	TPS                float64     `json:"tps" yaml:"tps"`
	Errors             ErrorCounts `json:"errors" yaml:"errors"`
	NonSuccessRequests int64       `json:"nonSuccessRequests" yaml:"nonSuccessRequests"`
	Duration           float64     `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Spread is the avg/stdev/max triple wrk prints per thread statistic.
type Spread struct {
	Avg          float64 `json:"avg" yaml:"avg"`
	Stdev        float64 `json:"stdev" yaml:"stdev"`
	Max          float64 `json:"max" yaml:"max"`
	StdevPercent string  `json:"stdevPercent,omitempty" yaml:"stdevPercent,omitempty"`
}

// ErrorCounts are wrk's socket error categories.
type ErrorCounts struct {
	Connect int64 `json:"connect" yaml:"connect"`
	Read    int64 `json:"read" yaml:"read"`
	Write   int64 `json:"write" yaml:"write"`
	Timeout int64 `json:"timeout" yaml:"timeout"`
}

// Total sums all categories.
func (e ErrorCounts) Total() int64 {
	return e.Connect + e.Read + e.Write + e.Timeout
}

// Add returns the element-wise sum.
func (e ErrorCounts) Add(o ErrorCounts) ErrorCounts {
	return ErrorCounts{
		Connect: e.Connect + o.Connect,
		Read:    e.Read + o.Read,
		Write:   e.Write + o.Write,
		Timeout: e.Timeout + o.Timeout,
	}
}

// CheckinResponse is returned by /wasp/checkin/{port}.
type CheckinResponse struct {
	ID string `json:"id"`
}

// Progress describes how far an in-flight run has got.
type Progress struct {
	Target      string        `json:"target"`
	Threads     int           `json:"threads"`
	Concurrency int           `json:"concurrency"`
	Duration    int           `json:"duration"`
	Timeout     int           `json:"timeout"`
	Expected    int           `json:"expected"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Percent     float64       `json:"percent"`
	ETA         time.Duration `json:"-"`
	ETASeconds  float64       `json:"eta"`
	Message     string        `json:"message"`
}

// Status is the body of GET /hive/status.
type Status struct {
	Running bool      `json:"running"`
	Wasps   int       `json:"wasps"`
	Message string    `json:"message"`
	Run     *Progress `json:"run,omitempty"`
}

// Ack is a generic acknowledgement body.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// ErrorBody is the JSON shape of error responses.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BattleReport is the body of a wasp's GET /battlereport: the outcome of its
// most recent run.
type BattleReport struct {
	Target   string    `json:"target"`
	Outcome  string    `json:"outcome"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Stats    *Stats    `json:"stats,omitempty"`
	Error    string    `json:"error,omitempty"`
}
