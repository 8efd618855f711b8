package pipeline

var DialConfig = dialConfig
