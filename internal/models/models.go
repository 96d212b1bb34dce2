package models

import "time"

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Prompt any `json:"prompt"`
}

// GenerateResponse is returned after a successful generation.
type GenerateResponse struct {
	LatestURL  string `json:"latestUrl"`
	HistoryURL string `json:"historyUrl"`
	Prompt     string `json:"prompt"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	RateLimit string `json:"rateLimit"`
}

type HistoryItem struct {
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}

// GenerationLog is one row of the generation_logs table.
type GenerationLog struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Client     string    `json:"client"`
	Prompt     string    `json:"prompt"`
	Provider   string    `json:"provider"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	HistoryKey string    `json:"history_key,omitempty"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoredObject is one row of the art_objects table. Data is empty for
// listings.
type StoredObject struct {
	Key          string
	Data         []byte
	ContentType  string
	CacheControl string
	ETag         string
	Size         int64
	UploadedAt   time.Time
}
