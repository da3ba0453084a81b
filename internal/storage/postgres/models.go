package postgres

import "github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"

// tokenModel maps the notifications_tokens table. The table is owned by the
// registration side; this service never creates or migrates it.
type tokenModel struct {
	PushToken string `gorm:"column:expoPushToken;primaryKey"`
	Notified  bool   `gorm:"column:notified"`
	IsForTest bool   `gorm:"column:isForTest"`
	Status    string `gorm:"column:status"`
}

func (tokenModel) TableName() string {
	return "notifications_tokens"
}

func tokenModelFromDomain(r broadcast.TokenRecord) tokenModel {
	return tokenModel{
		PushToken: r.PushToken,
		Notified:  r.Notified,
		IsForTest: r.IsForTest,
		Status:    string(r.Status),
	}
}

func tokenModelToDomain(m tokenModel) broadcast.TokenRecord {
	return broadcast.TokenRecord{
		PushToken: m.PushToken,
		Notified:  m.Notified,
		IsForTest: m.IsForTest,
		Status:    broadcast.TokenStatus(m.Status),
	}
}
