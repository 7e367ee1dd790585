// internal/application/application.go
package application

import "time"

// Application is the local aggregate. ReceiptCode identifies it across every
// participating service; UserID is an external identity reference only.
type Application struct {
	ReceiptCode       int64
	UserID            string
	EducationalStatus string
	SubmissionPayload []byte
	SagaStatus        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
