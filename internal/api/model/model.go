package model

import "time"

type FailedJob struct {
	ID        string    `db:"id"`
	Queue     string    `db:"queue"`
	MessageID string    `db:"message_id"`
	Payload   []byte    `db:"payload"`
	Exception string    `db:"exception"`
	Reason    string    `db:"reason"`
	Attempts  int64     `db:"attempts"`
	FailedAt  time.Time `db:"failed_at"`
}
