package listener

import (
	"encoding/json"
	"log"

	"conversation-service/event"
	"conversation-service/model"
	"conversation-service/notify"
)

type notificationEvent struct {
	UserID        uint   `json:"user_id"`
	Kind          string `json:"kind"`
	Content       string `json:"content"`
	RelatedUserID uint   `json:"related_user_id"`
	PostID        uint   `json:"post_id"`
}

var (
	NotificationsChannel = make(chan event.EventChannelData)
)

// Notifications drains notification events published by the other services
// and fans them out to subscribed streams through the hub.
func Notifications(hub *notify.Hub) {
	for data := range NotificationsChannel {
		var in notificationEvent
		if err := json.Unmarshal(data.Data, &in); err != nil {
			log.Printf("notifications: drop malformed event [%s]: %v", data.Action, err)
			continue
		}

		if !data.Out.Send {
			continue
		}

		err := hub.Publish(&model.Notification{
			UserID:        in.UserID,
			Kind:          in.Kind,
			Content:       in.Content,
			RelatedUserID: in.RelatedUserID,
			PostID:        in.PostID,
		})
		if err != nil {
			log.Printf("notifications: persist failed for user %d: %v", in.UserID, err)
		}
	}
}
