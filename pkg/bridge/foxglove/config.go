package foxglove

const DefaultSchema = `{
  "type": "object",
  "properties": {
    "ts": { "type": "string" },
    "remote": { "type": "string" },
    "w": { "type": "number" },
    "x": { "type": "number" },
    "y": { "type": "number" },
    "z": { "type": "number" },
    "raw_hex": { "type": "string" }
  },
  "required": ["w", "x", "y", "z"]
}`

const DefaultTransformSchema = `{
  "type": "object",
  "properties": {
    "transforms": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "timestamp": {
            "type": "object",
            "properties": {
              "sec": { "type": "integer" },
              "nsec": { "type": "integer" }
            }
          },
          "parent_frame_id": { "type": "string" },
          "child_frame_id": { "type": "string" },
          "translation": {
            "type": "object",
            "properties": {
              "x": { "type": "number" },
              "y": { "type": "number" },
              "z": { "type": "number" }
            }
          },
          "rotation": {
            "type": "object",
            "properties": {
              "x": { "type": "number" },
              "y": { "type": "number" },
              "z": { "type": "number" },
              "w": { "type": "number" }
            }
          }
        }
      }
    }
  }
}`

type Config struct {
	WSAddr string
	Name   string

	Topic          string
	ChannelID      uint64
	SchemaName     string
	SchemaEncoding string
	Schema         string
	Encoding       string

	TransformTopic     string
	TransformChannelID uint64
	TransformSchema    string

	ParentFrameID string
	FrameID       string
	SendBuf       int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:             "127.0.0.1:8765",
		Name:               "quatstream",
		Topic:              "quatstream/reading",
		ChannelID:          1,
		SchemaName:         "quatstream.Reading",
		SchemaEncoding:     "jsonschema",
		Schema:             DefaultSchema,
		Encoding:           "json",
		TransformTopic:     "/tf",
		TransformChannelID: 2,
		TransformSchema:    DefaultTransformSchema,
		ParentFrameID:      "world",
		FrameID:            "imu",
		SendBuf:            256,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.ChannelID == 0 {
		cfg.ChannelID = def.ChannelID
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = def.SchemaName
	}
	if cfg.SchemaEncoding == "" {
		cfg.SchemaEncoding = def.SchemaEncoding
	}
	if cfg.Schema == "" {
		cfg.Schema = def.Schema
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.TransformTopic == "" {
		cfg.TransformTopic = def.TransformTopic
	}
	if cfg.TransformChannelID == 0 {
		cfg.TransformChannelID = def.TransformChannelID
	}
	if cfg.TransformChannelID == cfg.ChannelID {
		cfg.TransformChannelID = cfg.ChannelID + 1
	}
	if cfg.TransformSchema == "" {
		cfg.TransformSchema = def.TransformSchema
	}
	if cfg.ParentFrameID == "" {
		cfg.ParentFrameID = def.ParentFrameID
	}
	if cfg.FrameID == "" {
		cfg.FrameID = def.FrameID
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
	return cfg
}
