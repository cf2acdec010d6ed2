package speedtest

import "time"

// Result is one latency probe against the best of the nearest servers.
type Result struct {
	Timestamp     time.Time     `json:"timestamp"`
	PingMs        float64       `json:"ping_ms"`
	JitterMs      float64       `json:"jitter_ms"`
	ISP           string        `json:"isp"`
	ServerName    string        `json:"server_name"`
	ServerCountry string        `json:"server_country"`
	Candidates    int           `json:"candidates"`
	Reachable     int           `json:"reachable"`
	Duration      time.Duration `json:"-"`
}
