// Package trace 将钩子调用的生命周期事件记录到可插拔的事件汇（内存、Redis Stream、
// MySQL 或 RabbitMQ），每次调用分配一个 UUID 作为关联标识。
package trace
