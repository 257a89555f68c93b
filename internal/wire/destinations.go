package wire

// Destinations the client publishes to.
const (
	DestChat           = "/app/chat"
	DestGroupChat      = "/app/group.chat"
	DestRead           = "/app/chat.read"
	DestAddUser        = "/app/user.addUser"
	DestDisconnectUser = "/app/user.disconnectUser"
)

// Channel is a logical inbound subscription.
type Channel string

const (
	ChannelMessages      Channel = "messages"
	ChannelStatus        Channel = "status"
	ChannelGroupMessages Channel = "group-messages"
	ChannelGroupUpdates  Channel = "group-updates"
	ChannelPublic        Channel = "public"
)

// Channels lists every channel a session subscribes to, in subscription
// order.
var Channels = []Channel{
	ChannelMessages,
	ChannelStatus,
	ChannelGroupMessages,
	ChannelGroupUpdates,
	ChannelPublic,
}

// Destination returns the broker destination of c for username.
func (c Channel) Destination(username string) string {
	if c == ChannelPublic {
		return "/topic/public"
	}
	return "/user/" + username + "/queue/" + string(c)
}
