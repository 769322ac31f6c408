// Package push carries remote change notifications between instances. A
// notification names only the subscription that changed; receivers re-fetch.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/domain"
)

const (
	BoxesSubscription  = "boxes-sub"
	ItemsSubscription  = "items-sub"
	PhotosSubscription = "photos-sub"
)

var subscriptionTopics = map[string]bus.Topic{
	BoxesSubscription:  bus.BoxesChanged,
	ItemsSubscription:  bus.ItemsChanged,
	PhotosSubscription: bus.PhotosChanged,
}

var recordSubscriptions = map[string]string{
	domain.RecordTypeBox:   BoxesSubscription,
	domain.RecordTypeItem:  ItemsSubscription,
	domain.RecordTypePhoto: PhotosSubscription,
}

// TopicFor maps a subscription id to its bus topic. Unknown ids report false.
func TopicFor(subscriptionID string) (bus.Topic, bool) {
	topic, ok := subscriptionTopics[subscriptionID]
	return topic, ok
}

// SubscriptionFor maps a record type to the subscription that covers it.
func SubscriptionFor(recordType string) (string, bool) {
	id, ok := recordSubscriptions[recordType]
	return id, ok
}

// Payload is the body of a push notification.
type Payload struct {
	SubscriptionID string `json:"_subscriptionID"`
	// Origin identifies the instance that made the change.
	Origin string `json:"origin,omitempty"`
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode push payload: %w", err)
	}
	if p.SubscriptionID == "" {
		return Payload{}, fmt.Errorf("failed to decode push payload: missing _subscriptionID")
	}
	return p, nil
}

// Notifier announces a confirmed write to other instances.
type Notifier interface {
	Notify(ctx context.Context, recordType string) error
}

// NopNotifier is used when no push transport is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
