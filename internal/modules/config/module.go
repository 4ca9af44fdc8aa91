package config

import "go.uber.org/fx"

// Module конфиг читается один раз при старте; ошибка валидации останавливает запуск.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(NewConfig),
	)
}
