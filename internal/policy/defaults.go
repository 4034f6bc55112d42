package policy

import (
	"time"

	"github.com/convertcredits/backend/internal/models"
)

func fixed(d time.Duration) Backoff { return Backoff{Strategy: StrategyFixed, BaseDelay: d} }
func exponential(d time.Duration) Backoff {
	return Backoff{Strategy: StrategyExponential, BaseDelay: d}
}

// Defaults is the built-in converter table.
func Defaults() []Policy {
	return []Policy{
		// project files
		{JobType: "mpp-to-xml", Family: models.FamilyProject, MaxAttempts: 3, Backoff: exponential(2 * time.Second), ConcurrencyLimit: 2, Timeout: 2 * time.Minute, CostInCredits: 1, Priority: 1},
		{JobType: "xml-to-mpp", Family: models.FamilyProject, MaxAttempts: 3, Backoff: exponential(2 * time.Second), ConcurrencyLimit: 2, Timeout: 2 * time.Minute, CostInCredits: 1, Priority: 1},

		// documents
		{JobType: "pdf-to-text", Family: models.FamilyDocument, MaxAttempts: 2, Backoff: fixed(2 * time.Second), ConcurrencyLimit: 4, Timeout: time.Minute, CostInCredits: 1, Priority: 2},
		{JobType: "docx-to-pdf", Family: models.FamilyDocument, MaxAttempts: 2, Backoff: fixed(3 * time.Second), ConcurrencyLimit: 2, Timeout: 3 * time.Minute, CostInCredits: 1, Priority: 2},
		{JobType: "xlsx-to-csv", Family: models.FamilyDocument, MaxAttempts: 2, Backoff: fixed(2 * time.Second), ConcurrencyLimit: 4, Timeout: time.Minute, CostInCredits: 1, Priority: 2},

		// images
		{JobType: "image-optimize-whatsapp", Family: models.FamilyImage, MaxAttempts: 2, Backoff: fixed(time.Second), ConcurrencyLimit: 6, Timeout: 30 * time.Second, CostInCredits: 1, Priority: 3},
		{JobType: "png-to-jpg", Family: models.FamilyImage, MaxAttempts: 2, Backoff: fixed(time.Second), ConcurrencyLimit: 6, Timeout: 30 * time.Second, CostInCredits: 1, Priority: 3},
		{JobType: "jpg-to-png", Family: models.FamilyImage, MaxAttempts: 2, Backoff: fixed(time.Second), ConcurrencyLimit: 6, Timeout: 30 * time.Second, CostInCredits: 1, Priority: 3},
		{JobType: "image-resize", Family: models.FamilyImage, MaxAttempts: 2, Backoff: fixed(time.Second), ConcurrencyLimit: 4, Timeout: time.Minute, CostInCredits: 1, Priority: 3},

		// media (heavy)
		{JobType: "video-to-mp4", Family: models.FamilyMedia, MaxAttempts: 2, Backoff: fixed(5 * time.Second), ConcurrencyLimit: 1, Timeout: 10 * time.Minute, CostInCredits: 3, Priority: 5},
		{JobType: "audio-to-mp3", Family: models.FamilyMedia, MaxAttempts: 2, Backoff: fixed(3 * time.Second), ConcurrencyLimit: 2, Timeout: 5 * time.Minute, CostInCredits: 2, Priority: 4},
		{JobType: "video-extract-audio", Family: models.FamilyMedia, MaxAttempts: 2, Backoff: fixed(5 * time.Second), ConcurrencyLimit: 1, Timeout: 10 * time.Minute, CostInCredits: 2, Priority: 5},
	}
}
