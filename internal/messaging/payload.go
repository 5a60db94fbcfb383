package messaging

// JobQueuedPayload - wake-сигнал воркеру: в хранилище появилась новая задача.
// Сигнал fire-and-forget и несет только id для логов; воркер все равно сам
// выбирает самую старую queued-задачу, поэтому потеря сообщения не теряет
// задачу - ее подберет фоновый тикер.
type JobQueuedPayload struct {
	JobID string `json:"jobId"`
}
