package config

import "time"

type Config struct {
	Interval     time.Duration // период запуска обхода
	PendingAfter time.Duration // PENDING -> PAID
	PaidAfter    time.Duration // PAID -> SHIPPED
	ShippedAfter time.Duration // SHIPPED -> DELIVERED
}
