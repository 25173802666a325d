package jobstore

// Redis key layout, per queue:
//
//	{prefix}:{queue}:waiting    ZSET  job ID scored by fire time (unix ms)
//	{prefix}:{queue}:active     ZSET  job ID scored by last heartbeat (unix ms)
//	{prefix}:{queue}:failed     ZSET  job ID scored by failure time (unix ms)
//	{prefix}:{queue}:recurring  HASH  job ID -> recurring definition JSON
//	{prefix}:{queue}:job:{id}   HASH  job fields (payload, meta, attempt, ...)

const defaultKeyPrefix = "reportflow"

type keys struct {
	prefix string
	queue  string
}

func newKeys(prefix, queue string) keys {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keys{prefix: prefix, queue: queue}
}

func (k keys) waiting() string   { return k.prefix + ":" + k.queue + ":waiting" }
func (k keys) active() string    { return k.prefix + ":" + k.queue + ":active" }
func (k keys) failed() string    { return k.prefix + ":" + k.queue + ":failed" }
func (k keys) recurring() string { return k.prefix + ":" + k.queue + ":recurring" }
func (k keys) job(id string) string {
	return k.prefix + ":" + k.queue + ":job:" + id
}
