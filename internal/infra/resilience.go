package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenResilient — универсальный цикл «живучей» подписки на сигналы Redis.
// Обрабатывает переподключения: при каждом успешном коннекте вызывается
// onReconnect (синхронизация состояния из БД), затем сообщения идут в onMessage.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(payload string),
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		// Синхронизация при каждом успешном коннекте: за время обрыва
		// сигналы могли быть потеряны, состояние перечитывается целиком.
		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
