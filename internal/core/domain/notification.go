package domain

type NotificationKind string

const (
	NotifyInfo                NotificationKind = "info"
	NotifyHostChanged         NotificationKind = "host-changed"
	NotifyAuthorizationDenied NotificationKind = "authorization-denied"
	NotifyCapacityExceeded    NotificationKind = "capacity-exceeded"
	NotifyDeviceError         NotificationKind = "device-error"
	NotifyRemoved             NotificationKind = "removed"
	NotifyReaction            NotificationKind = "reaction"
)

type Notification struct {
	Kind    NotificationKind
	Message string
}
