package di

import (
	"fmt"

	"go.uber.org/dig"
)

// Container 持有助手服务图的依赖注入容器。
// bootstrap在底层后端（数据库、redis、kafka）初始化完成后
// 注册providers并Invoke出编排、摄取、健康等服务。
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke，容器未初始化时返回错误而不是panic
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	if Container == nil {
		return fmt.Errorf("di container not initialized, call InitContainer first")
	}
	return Container.Invoke(function, opts...)
}

// Provide 封装dig.Provide，容器未初始化时返回错误而不是panic
func Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	if Container == nil {
		return fmt.Errorf("di container not initialized, call InitContainer first")
	}
	return Container.Provide(constructor, opts...)
}
