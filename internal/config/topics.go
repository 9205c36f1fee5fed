package config

const (
	// TopicEmbedBackfill carries pages whose on-demand embedding backfill hit the per-call cap.
	TopicEmbedBackfill = "embed.backfill"

	// TopicPipelineEvents carries every pipeline stage event.
	TopicPipelineEvents = "pipeline.events"

	// ChannelBackfillWorker is the consumer channel of the backfill worker.
	ChannelBackfillWorker = "backfill-worker"
)

// Topics lists the topics pre-created at bootstrap.
var Topics = []string{TopicEmbedBackfill, TopicPipelineEvents}
