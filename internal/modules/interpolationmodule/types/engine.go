// Package types provides types and interfaces for the interpolation module.
package types

// EngineKind identifies a supported interpolation engine backend.
type EngineKind string

const (
	EngineDainNcnn EngineKind = "dain-ncnn"
	EngineCainNcnn EngineKind = "cain-ncnn"
	EngineRifeCuda EngineKind = "rife-cuda"
	EngineRifeNcnn EngineKind = "rife-ncnn"
)

// AllEngines lists every engine kind in display order.
func AllEngines() []EngineKind {
	return []EngineKind{EngineRifeCuda, EngineRifeNcnn, EngineDainNcnn, EngineCainNcnn}
}

// ParseEngineKind converts a user supplied name into an EngineKind.
func ParseEngineKind(s string) (EngineKind, bool) {
	for _, k := range AllEngines() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// EngineInfo is the serializable view of an engine descriptor.
type EngineInfo struct {
	Kind             EngineKind `json:"kind"`
	Name             string     `json:"name"`
	Executables      []string   `json:"executables"`
	PackageDir       string     `json:"packageDir"`
	DefaultOutputExt string     `json:"defaultOutputExt"`
	StartupMs        int64      `json:"estimatedStartupMs"`
	NativeMultiplier bool       `json:"nativeMultiplier"`
	LogFile          string     `json:"logFile"`
	Installed        bool       `json:"installed"`
}
