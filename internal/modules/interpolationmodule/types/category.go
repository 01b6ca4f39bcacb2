package types

import "time"

// ErrorCategory classifies a known failure signature in engine output.
type ErrorCategory string

const (
	CategoryNone               ErrorCategory = ""
	CategoryCPUFallbackWarning ErrorCategory = "cpu_fallback_warning"
	CategoryOutOfVRAM          ErrorCategory = "out_of_vram"
	CategoryMissingDependency  ErrorCategory = "missing_dependency"
	CategoryUnsupportedGPU     ErrorCategory = "unsupported_gpu"
	CategoryRuntimeFailure     ErrorCategory = "runtime_failure"
	CategoryVulkanFailure      ErrorCategory = "vulkan_failure"
)

// IsError reports whether the category should stop the run. The CPU
// fallback warning is informational.
func (c ErrorCategory) IsError() bool {
	return c != CategoryNone && c != CategoryCPUFallbackWarning
}

// Notification is the single user-facing message raised for a run.
type Notification struct {
	SessionID string        `json:"sessionId"`
	Engine    EngineKind    `json:"engine"`
	Category  ErrorCategory `json:"category"`
	Line      string        `json:"line"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}
