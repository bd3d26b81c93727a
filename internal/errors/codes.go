// Package errors provides structured error handling for rankfuse.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal, raised before any query runs)
//   - 2XX: IO errors (dataset files, index files, run output)
//   - 3XX: Capability errors (sparse/dense search, pairwise scoring, embedding)
//   - 4XX: Data anomalies (logged, never fatal)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates invalid static parameters.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryCapability indicates a failing retrieval or scoring collaborator.
	CategoryCapability Category = "CAPABILITY"
	// CategoryData indicates a recoverable problem with input data.
	CategoryData Category = "DATA"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Capability names the external collaborator behind a CapabilityError.
type Capability string

const (
	CapabilitySparse   Capability = "sparse_search"
	CapabilityDense    Capability = "dense_search"
	CapabilityPairwise Capability = "pairwise_score"
	CapabilityEmbed    Capability = "embed"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid     = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound    = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeParamOutOfRange   = "ERR_103_PARAM_OUT_OF_RANGE"
	ErrCodeUnknownMode       = "ERR_104_UNKNOWN_MODE"
	ErrCodeMissingDependency = "ERR_105_MISSING_DEPENDENCY"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeMalformedInput = "ERR_202_MALFORMED_INPUT"
	ErrCodeWriteFailed    = "ERR_203_WRITE_FAILED"
	ErrCodeCorruptIndex   = "ERR_204_CORRUPT_INDEX"
	ErrCodeIndexLocked    = "ERR_205_INDEX_LOCKED"

	// Capability errors (300-399)
	ErrCodeSparseSearchFailed    = "ERR_301_SPARSE_SEARCH_FAILED"
	ErrCodeDenseSearchFailed     = "ERR_302_DENSE_SEARCH_FAILED"
	ErrCodePairwiseScoreFailed   = "ERR_303_PAIRWISE_SCORE_FAILED"
	ErrCodeEmbeddingFailed       = "ERR_304_EMBEDDING_FAILED"
	ErrCodeCapabilityUnavailable = "ERR_305_CAPABILITY_UNAVAILABLE"

	// Data anomalies (400-499)
	ErrCodeDocTextMissing    = "ERR_401_DOC_TEXT_MISSING"
	ErrCodeRerankIDOutside   = "ERR_402_RERANK_ID_OUTSIDE_CANDIDATES"
	ErrCodeRerankDuplicateID = "ERR_403_RERANK_DUPLICATE_ID"
	ErrCodeRecordSkipped     = "ERR_404_RECORD_SKIPPED"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryCapability
	case '4':
		return CategoryData
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryData:
		return SeverityWarning
	}
	if code == ErrCodeCorruptIndex {
		return SeverityFatal
	}
	return SeverityError
}

// isRetryableCode reports whether the capability layer may retry the failure.
// The fusion core itself never retries.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeSparseSearchFailed, ErrCodeDenseSearchFailed,
		ErrCodePairwiseScoreFailed, ErrCodeEmbeddingFailed,
		ErrCodeCapabilityUnavailable:
		return true
	default:
		return false
	}
}

// codeForCapability maps a collaborator to its failure code.
func codeForCapability(c Capability) string {
	switch c {
	case CapabilitySparse:
		return ErrCodeSparseSearchFailed
	case CapabilityDense:
		return ErrCodeDenseSearchFailed
	case CapabilityPairwise:
		return ErrCodePairwiseScoreFailed
	case CapabilityEmbed:
		return ErrCodeEmbeddingFailed
	default:
		return ErrCodeCapabilityUnavailable
	}
}
