package relationship

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func jsonMarshal(v any) ([]byte, error)      { return jsonAPI.Marshal(v) }
func jsonUnmarshal(data []byte, v any) error { return jsonAPI.Unmarshal(data, v) }
