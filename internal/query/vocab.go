package query

// Controlled vocabularies used by the extractor. These are static
// configuration; classification is a pure function of the question text
// and these tables.

// statisticalSignals are phrases that mark a question as requiring
// aggregation over log records rather than retrieval.
var statisticalSignals = []string{
	"how many", "how often", "how much", "number of", "count",
	"average", "avg", "mean", "median", "percentile", "p95", "p99",
	"rate", "ratio", "percentage", "percent", "distribution",
	"total", "sum", "min", "max", "top", "most", "least", "fewest",
	"per service", "per route", "per user", "group by", "breakdown",
	"compare", "trend", "over time",
}

// latencyKeywords mark the question as being about performance.
var latencyKeywords = []string{
	"slow", "slowest", "fast", "fastest", "latency", "duration",
	"response time", "timeout", "timed out", "p95", "p99", "took",
}

// roleKeywords map user-role phrasings to the canonical role value.
var roleKeywords = map[string]string{
	"premium":    "premium",
	"paid":       "premium",
	"paying":     "premium",
	"free":       "free",
	"free-tier":  "free",
	"trial":      "trial",
	"enterprise": "enterprise",
	"admin":      "admin",
	"guest":      "guest",
	"anonymous":  "guest",
}

// errorSignals mark the question as being about failures.
var errorSignals = []string{
	"fail", "failed", "failing", "failure", "failures",
	"error", "errors", "exception", "exceptions",
	"crash", "crashed", "5xx", "broke", "broken", "declined",
	"rejected", "unavailable",
}

// logBehaviorTerms indicate the question is about system/log behavior at
// all; a question with none of these and no other signals stays UNKNOWN.
var logBehaviorTerms = []string{
	"request", "requests", "log", "logs", "service", "services",
	"route", "endpoint", "api", "user", "users", "payment", "payments",
	"latency", "error", "errors", "fail", "failed", "failure",
	"timeout", "traffic", "response", "status", "deploy", "behavior",
	"happen", "happened", "happening", "why", "what", "when", "which",
	"spike", "degraded", "down", "outage", "incident",
}

// stopWords are excluded from keyword extraction.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "will": true,
	"with": true, "i": true, "me": true, "my": true, "we": true,
	"you": true, "your": true, "this": true, "these": true, "those": true,
	"there": true, "their": true, "did": true, "do": true, "does": true,
	"were": true, "have": true, "had": true, "any": true, "all": true,
}
