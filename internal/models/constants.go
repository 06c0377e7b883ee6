package models

import "time"

const (
	// DefaultMaxAttempts число попыток отправки до перевода в exhausted
	DefaultMaxAttempts = 3

	// DefaultSyncInterval период фоновой синхронизации
	DefaultSyncInterval = 30 * time.Second

	// DefaultSubmitDelay пауза между отправками внутри прохода
	DefaultSubmitDelay = 100 * time.Millisecond

	// DefaultLockTTL время жизни распределенной блокировки прохода;
	// продлевается после каждой отправки, поэтому ограничивает одну отправку, а не весь проход
	DefaultLockTTL = 5 * time.Minute

	// DefaultProbeInterval период проверки доступности сервера
	DefaultProbeInterval = 10 * time.Second

	// DefaultStateCacheTTL время жизни кэша состояния брони
	DefaultStateCacheTTL = 30 * time.Second

	// DefaultSyncLogLimit количество записей журнала по умолчанию
	DefaultSyncLogLimit = 50
)
