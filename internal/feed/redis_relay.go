package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel é o canal Redis Pub/Sub usado para o feed entre instâncias.
const DefaultChannel = "dice_live_feed"

// RedisRelay publica os eventos no Redis para que todas as instâncias do dice-service
// alimentem seus Broadcasters locais. O histórico recente fica numa lista (LPUSH + LTRIM)
// para que uma instância nova já suba com os últimos eventos.
type RedisRelay struct {
	log        *zap.Logger
	rdb        *redis.Client
	channel    string
	historyKey string
	history    int
	local      *Broadcaster
}

func NewRedisRelay(log *zap.Logger, rdb *redis.Client, channel string, history int, local *Broadcaster) *RedisRelay {
	if history <= 0 {
		history = DefaultHistory
	}
	return &RedisRelay{
		log:        log,
		rdb:        rdb,
		channel:    channel,
		historyKey: "dice:feed:history:" + channel,
		history:    history,
		local:      local,
	}
}

// Publish envia o evento ao Redis. Se o Redis falhar o evento ainda chega aos inscritos locais.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("feed marshal failed", zap.Error(err))
		return
	}

	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, r.historyKey, b)
	pipe.LTrim(ctx, r.historyKey, 0, int64(r.history-1))
	pipe.Publish(ctx, r.channel, b)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("feed redis publish failed; delivering locally", zap.String("bet_id", ev.BetID), zap.Error(err))
		r.local.Publish(ctx, ev)
	}
}

// Run se inscreve no canal, carrega o histórico da lista e repassa os eventos ao Broadcaster local
// até o contexto ser cancelado.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// garante a inscrição antes de ler o histórico, senão eventos no meio se perdem
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	seen, err := r.replayHistory(ctx)
	if err != nil {
		r.log.Warn("feed history replay failed", zap.Error(err))
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("feed subscriber unmarshal error", zap.Error(err))
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				// já veio pelo histórico
				delete(seen, ev.ID)
				continue
			}
			r.local.Publish(ctx, ev)
		}
	}
}

func (r *RedisRelay) replayHistory(ctx context.Context) (map[string]struct{}, error) {
	raw, err := r.rdb.LRange(ctx, r.historyKey, 0, int64(r.history-1)).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	// LPUSH deixa o mais recente na frente; reproduz do mais antigo para o mais novo
	for i := len(raw) - 1; i >= 0; i-- {
		var ev Event
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			continue
		}
		seen[ev.ID] = struct{}{}
		r.local.Publish(ctx, ev)
	}
	return seen, nil
}
