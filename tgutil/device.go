package tgutil

import (
	"github.com/gotd/td/telegram"

	"github.com/iamrita-ai/Terabox-Drive/constant"
)

var Device = telegram.DeviceConfig{
	DeviceModel:    "Desktop",
	SystemVersion:  "Linux",
	AppVersion:     constant.Version,
	SystemLangCode: "en",
	LangPack:       "",
	LangCode:       "en",
}
