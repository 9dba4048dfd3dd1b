package kafka

// DefaultJobTopic carries trend job lifecycle events
const DefaultJobTopic = "costtrend.jobs"
