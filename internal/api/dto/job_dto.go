package dto

import "encoding/json"

type DispatchJobRequest struct {
	Command      string          `json:"command" binding:"required"`
	Queue        string          `json:"queue"`
	DelaySeconds int             `json:"delay_seconds" binding:"min=0"`
	MaxTries     uint            `json:"max_tries"`
	Args         json.RawMessage `json:"args"`
}

type DispatchJobResponse struct {
	Command      string `json:"command"`
	Queue        string `json:"queue"`
	DelaySeconds int    `json:"delay_seconds"`
}
