package config

type WorkerKeyStruct struct {
	RescheduleQueue string
}

var WorkerKey = &WorkerKeyStruct{
	RescheduleQueue: "reschedule_queue",
}
