package main

import (
	"github.com/joho/godotenv"

	"github.com/yothgewalt/discount-card-portal-server/internal/bootstrap"
	"github.com/yothgewalt/discount-card-portal-server/internal/container"
)

func main() {
	_ = godotenv.Load()

	opts := container.Options{Timezone: "Asia/Bangkok"}
	if err := bootstrap.Run(&opts); err != nil {
		panic(err)
	}
}
