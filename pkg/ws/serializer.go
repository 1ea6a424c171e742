package ws

import (
	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// Serializer 对象与文本帧之间的编解码器
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认序列化器
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// YAMLSerializer 以 YAML 文本收发对象
type YAMLSerializer struct{}

func (YAMLSerializer) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (YAMLSerializer) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
