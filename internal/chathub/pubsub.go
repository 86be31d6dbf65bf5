package chathub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/somuraj07/saams/internal/models"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// StartPubSubListener підписується на брокер і пересилає отримані кадри в PubSubCh.
func (m *ManagerService) StartPubSubListener(ctx context.Context) (func(), error) {
	return m.Broker.Subscribe(ctx, func(roomID string, data []byte) {
		var b models.RoomBroadcast
		if err := json.Unmarshal(data, &b); err != nil {
			m.logger.Warn("bad broker payload", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		if b.Frame.RoomID == "" {
			b.Frame.RoomID = roomID
		}
		select {
		case m.PubSubCh <- b:
		case <-ctx.Done():
		}
	})
}

// publish sends b through the broker. If the broker is unavailable the frame
// is still delivered to local members.
func (m *ManagerService) publish(ctx context.Context, b models.RoomBroadcast) {
	data, err := json.Marshal(b)
	if err != nil {
		m.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := m.Broker.Publish(ctx, b.Frame.RoomID, data); err != nil {
		m.logger.Warn("broker publish failed, delivering locally",
			zap.String("room_id", b.Frame.RoomID), zap.Error(err))
		m.enqueueLocal(b)
	}
}

func (m *ManagerService) enqueueLocal(b models.RoomBroadcast) {
	select {
	case m.PubSubCh <- b:
	case <-m.done:
	}
}
