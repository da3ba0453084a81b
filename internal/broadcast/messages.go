package broadcast

import "github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"

// DefaultSound is played by the device when no other sound is configured.
const DefaultSound = "default"

// BuildMessages maps each token to a notification carrying the event content.
func BuildMessages(tokens []string, event broadcast.Event, sound string) []broadcast.Message {
	if sound == "" {
		sound = DefaultSound
	}
	messages := make([]broadcast.Message, 0, len(tokens))
	for _, to := range tokens {
		messages = append(messages, broadcast.Message{
			To:    to,
			Title: event.Title,
			Body:  event.Body,
			Data: broadcast.MessageData{
				Type:  event.Type,
				Event: event.Event,
			},
			Sound: sound,
		})
	}
	return messages
}
