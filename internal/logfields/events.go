package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func BuildID(val string) zap.Field {
	return zap.String("build_id", val)
}
