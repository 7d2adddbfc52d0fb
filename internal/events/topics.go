package events

const (
	TopicConnStatus  = "conn.status"
	TopicMessage     = "message"
	TopicContact     = "contact"
	TopicSelfInfo    = "self.info"
	TopicRawFrameIn  = "raw.frame.in"
	TopicRawFrameOut = "raw.frame.out"
)
