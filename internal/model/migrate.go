package model

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&Product{},
		&Task{},
		&WebhookSubscription{},
		&WebhookDeliveryLog{},
		&OutboxEvent{},
		&APIClient{},
	}
}
