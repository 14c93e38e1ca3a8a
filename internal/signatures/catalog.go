package signatures

import "github.com/pipewatch/rca-agent/internal/models"

// Signature is a named rule describing one known failure mode: a regex set,
// its classification, and the standing remediation advice.
type Signature struct {
	Name           string
	Category       models.ErrorCategory
	Severity       models.Severity
	Patterns       []string
	Description    string
	Recommendation string
}

// DefaultCatalog returns the built-in signature catalog. The catalog is
// append-only: entries are loaded once at process start and read-only after.
func DefaultCatalog() []Signature {
	return []Signature{
		// Resource exhaustion
		{
			Name:     "java_oom",
			Category: models.CategoryResourceExhaustion,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`java\.lang\.OutOfMemoryError`,
				`Java heap space`,
				`GC overhead limit exceeded`,
				`Metaspace`,
			},
			Description:    "Java process ran out of memory",
			Recommendation: "Increase executor memory or optimize data partitioning",
		},
		{
			Name:     "python_oom",
			Category: models.CategoryResourceExhaustion,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`MemoryError`,
				`Cannot allocate memory`,
				`killed.*OOM`,
				`OOMKilled`,
			},
			Description:    "Worker process ran out of memory",
			Recommendation: "Reduce batch size or increase container memory limits",
		},
		{
			Name:     "disk_full",
			Category: models.CategoryResourceExhaustion,
			Severity: models.SeverityCritical,
			Patterns: []string{
				`No space left on device`,
				`Disk quota exceeded`,
				`ENOSPC`,
			},
			Description:    "Disk space exhausted",
			Recommendation: "Clean up temporary files or increase disk allocation",
		},
		{
			Name:     "timeout",
			Category: models.CategoryResourceExhaustion,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`TimeoutError`,
				`timed out`,
				`deadline exceeded`,
				`execution timeout`,
			},
			Description:    "Operation timed out",
			Recommendation: "Increase timeout or optimize the operation",
		},
		// Schema issues
		{
			Name:     "column_not_found",
			Category: models.CategorySchemaMismatch,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`column.*not found`,
				`KeyError.*column`,
				`no such column`,
				`Unknown column`,
				`AnalysisException.*cannot resolve`,
			},
			Description:    "Expected column not found in data",
			Recommendation: "Verify source schema and update transformation",
		},
		{
			Name:     "type_mismatch",
			Category: models.CategorySchemaMismatch,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`cannot cast`,
				`type mismatch`,
				`invalid type`,
				`TypeError.*expected`,
				`cannot be converted to`,
			},
			Description:    "Data type mismatch",
			Recommendation: "Add type casting or fix source data types",
		},
		{
			Name:     "parse_error",
			Category: models.CategorySchemaMismatch,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`parse error`,
				`JSON.*invalid`,
				`malformed`,
				`unexpected token`,
				`XMLSyntaxError`,
			},
			Description:    "Failed to parse input data",
			Recommendation: "Check source data format and parser configuration",
		},
		// Source availability
		{
			Name:     "connection_refused",
			Category: models.CategorySourceUnavailable,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`Connection refused`,
				`ECONNREFUSED`,
				`Could not connect`,
				`Connection reset`,
			},
			Description:    "Cannot connect to external service",
			Recommendation: "Check if the source service is running and accessible",
		},
		{
			Name:     "http_5xx",
			Category: models.CategorySourceUnavailable,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`HTTP 5\d{2}`,
				`500 Internal Server Error`,
				`502 Bad Gateway`,
				`503 Service Unavailable`,
				`504 Gateway Timeout`,
			},
			Description:    "External API returned server error",
			Recommendation: "Check external service status and retry",
		},
		{
			Name:     "dns_failure",
			Category: models.CategorySourceUnavailable,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`Name or service not known`,
				`getaddrinfo failed`,
				`DNS resolution failed`,
				`NXDOMAIN`,
			},
			Description:    "DNS resolution failed",
			Recommendation: "Check network configuration and DNS settings",
		},
		// Data quality
		{
			Name:     "null_constraint",
			Category: models.CategoryDataQuality,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`NOT NULL constraint`,
				`null value in column.*violates`,
				`Cannot insert NULL`,
			},
			Description:    "NULL value violates constraint",
			Recommendation: "Add NULL handling or fix source data",
		},
		{
			Name:     "unique_violation",
			Category: models.CategoryDataQuality,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`unique constraint`,
				`duplicate key`,
				`IntegrityError.*UNIQUE`,
			},
			Description:    "Duplicate key violation",
			Recommendation: "Add deduplication logic or use UPSERT",
		},
		{
			Name:     "assertion_failed",
			Category: models.CategoryDataQuality,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`AssertionError`,
				`data quality check failed`,
				`expectation.*failed`,
			},
			Description:    "Data quality assertion failed",
			Recommendation: "Investigate data quality issue in source",
		},
		// Permission errors
		{
			Name:     "auth_failure",
			Category: models.CategoryPermissionError,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`401 Unauthorized`,
				`403 Forbidden`,
				`Access Denied`,
				`PermissionDenied`,
				`authentication failed`,
			},
			Description:    "Authentication or authorization failed",
			Recommendation: "Check credentials and permissions",
		},
		{
			Name:     "token_expired",
			Category: models.CategoryPermissionError,
			Severity: models.SeverityMedium,
			Patterns: []string{
				`token.*expired`,
				`JWT.*expired`,
				`session.*expired`,
				`credential.*expired`,
			},
			Description:    "Authentication token expired",
			Recommendation: "Refresh authentication tokens",
		},
		// Network errors
		{
			Name:     "ssl_error",
			Category: models.CategoryNetworkError,
			Severity: models.SeverityHigh,
			Patterns: []string{
				`SSL.*error`,
				`certificate verify failed`,
				`SSLError`,
				`CERTIFICATE_VERIFY_FAILED`,
			},
			Description:    "SSL/TLS connection error",
			Recommendation: "Check SSL certificates and configuration",
		},
	}
}
