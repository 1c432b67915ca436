package protocol

import "fmt"

// Type 消息类型，线上占 1 字节。
type Type uint8

const (
	NA Type = 0

	// 消息部分
	Text  Type = 1
	Meme  Type = 2
	File  Type = 3
	Image Type = 4
	Video Type = 5
	Audio Type = 6

	// 逻辑部分
	Ack           Type = 7
	Box           Type = 8
	Auth          Type = 9
	Sync          Type = 10
	Error         Type = 11
	Offline       Type = 12
	Heartbeat     Type = 13
	UnderReview   Type = 14
	InternalError Type = 15

	// 业务部分
	FriendRelationship Type = 16
	SysNotification    Type = 17
)

var typeNames = map[Type]string{
	NA:                 "NA",
	Text:               "Text",
	Meme:               "Meme",
	File:               "File",
	Image:              "Image",
	Video:              "Video",
	Audio:              "Audio",
	Ack:                "Ack",
	Box:                "Box",
	Auth:               "Auth",
	Sync:               "Sync",
	Error:              "Error",
	Offline:            "Offline",
	Heartbeat:          "Heartbeat",
	UnderReview:        "UnderReview",
	InternalError:      "InternalError",
	FriendRelationship: "FriendRelationship",
	SysNotification:    "SysNotification",
}

// Valid 判断类型码是否在已知范围内（包含 NA）。
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}
