package server

// ReplyPrefix is the fixed text every reply starts with.
const ReplyPrefix = "Server received message: "

// Reply wraps a received message in the response template. It depends on
// nothing but its input, so equal messages always produce equal replies.
func Reply(message string) string {
	return ReplyPrefix + message
}
