package dmlguard

// DetectProtectionLevel maps a Dataverse environment type to a
// ProtectionLevel (§4.7 closing paragraph): "Production" maps to
// ProtectionProduction, everything else (Sandbox, Trial, Developer, ...)
// defaults to ProtectionDevelopment. Callers remain free to override the
// result, e.g. from an explicit CLI flag or saved connection profile.
func DetectProtectionLevel(envType string) ProtectionLevel {
	if normalizeEnvType(envType) == "production" {
		return ProtectionProduction
	}
	return ProtectionDevelopment
}
