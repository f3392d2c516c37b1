package redis

// Redis key naming conventions for triage data.
// All keys are prefixed with "triage:" to avoid collisions.

const keyPrefix = "triage:"

// ── Job keys ──

// jobKey returns the key for a job record: triage:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry: triage:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"
