// Package envelope 负责 NetworkEnvelope 的长度前缀分帧
//
// 帧格式：uvarint(len) || envelope bytes。
//
// Socket 用于阻塞式 net.Conn（连接读循环），Decoder 用于非阻塞
// 通道逐块喂入字节后增量解析（出站复用器）。
package envelope
