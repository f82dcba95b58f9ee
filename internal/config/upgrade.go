package config

import (
	up "go.mau.fi/util/configupgrade"
)

func DoUpgrade(helper up.Helper) {
	helper.Copy(up.Str, "matrix", "base_url")
	helper.Copy(up.Str, "matrix", "homeserver")
	helper.Copy(up.Str, "matrix", "as_token")
	helper.Copy(up.Str, "matrix", "hs_token")
	helper.Copy(up.Str, "matrix", "bot_localpart")

	helper.Copy(up.Str, "opensim", "bridge_secret")
	helper.Copy(up.Str, "opensim", "region_url")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "host")
	helper.Copy(up.Int, "database", "port")
	helper.Copy(up.Str, "database", "name")
	helper.Copy(up.Str, "database", "user")
	helper.Copy(up.Str, "database", "password")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")

	helper.Copy(up.Str, "avatar", "base_url")
	helper.Copy(up.Str, "avatar", "cache_dir")
	helper.Copy(up.Str, "avatar", "asset_service_url")

	helper.Copy(up.Str, "server", "appservice_host")
	helper.Copy(up.Int, "server", "appservice_port")
	helper.Copy(up.Str, "server", "opensim_host")
	helper.Copy(up.Int, "server", "opensim_port")

	helper.Copy(up.Map, "logging")
}

var SpacedBlocks = [][]string{
	{"matrix"},
	{"opensim"},
	{"database"},
	{"avatar"},
	{"server"},
	{"logging"},
}
