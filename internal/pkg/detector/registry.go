package detector

import (
	"sync"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures/application"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures/messaging"
)

var (
	// DefaultDetector is the global detector instance
	DefaultDetector *Detector
	once            sync.Once
)

// NewDefault creates a detector with every built-in signature registered
func NewDefault(cfg Config, ymsg messaging.Config) *Detector {
	d := NewWithConfig(cfg)

	// Host protocols
	d.RegisterSignature(application.NewTLSSignature())  // Priority 110
	d.RegisterSignature(application.NewHTTPSignature()) // Priority 80

	// Leaf signatures
	d.RegisterSignature(messaging.NewYMSGSignatureWithConfig(ymsg)) // Priority 145

	return d
}

// InitDefault initializes the default detector with all signatures
func InitDefault() *Detector {
	once.Do(func() {
		DefaultDetector = NewDefault(DefaultConfig(), messaging.DefaultConfig())
	})

	return DefaultDetector
}

// GetDefault returns the default detector instance, creating it on first use
func GetDefault() *Detector {
	return InitDefault()
}
