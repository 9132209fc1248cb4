package config

type WorkerKeyStruct struct {
	PersistProctorEventsQueue string
	PersistDraftsQueue        string
	PersistCheckpointsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProctorEventsQueue: "persist_proctor_events_queue",
	PersistDraftsQueue:        "persist_drafts_queue",
	PersistCheckpointsQueue:   "persist_checkpoints_queue",
}
