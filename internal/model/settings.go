package model

// Well-known settings keys. Settings are free-form key-value pairs; this
// list names the ones the application itself reads.
const (
	SettingShopName        = "shop.name"
	SettingShopPhone       = "shop.phone"
	SettingShopAddress     = "shop.address"
	SettingMapCoordinates  = "shop.map_coordinates"
	SettingMetrikaID       = "analytics.metrika_id"
	SettingChatPrompt      = "chat.system_prompt"
	SettingDeepSeekKey     = "chat.deepseek_api_key"
)

// PublicSettings lists the settings keys exposed through the unauthenticated
// site endpoint. Anything not listed here stays admin-only.
var PublicSettings = []string{
	SettingShopName,
	SettingShopPhone,
	SettingShopAddress,
	SettingMapCoordinates,
	SettingMetrikaID,
}
