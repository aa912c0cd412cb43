package noise

import "math"

// Коэффициенты точечного хэша. Классическая конструкция frac(sin(dot)*K):
// значения достаточно разбросаны для пространственного шума, криптографическая
// равномерность не требуется.
const (
	coeffX    = 12.9898
	coeffY    = 78.233
	coeffZ    = 37.719
	coeffSeed = 43.758
	scaleK    = 43758.5453
)

// PointNoise возвращает детерминированное псевдослучайное значение в [0,1)
// для точки (x, y, z) и зерна seed. Внутреннего состояния нет: одинаковые
// аргументы всегда дают одинаковый результат.
func PointNoise(x, y, z float64, seed int64) float64 {
	v := math.Sin(x*coeffX+y*coeffY+z*coeffZ+float64(seed)*coeffSeed) * scaleK
	// Дробная часть через floor, чтобы отрицательный синус не выводил из [0,1)
	return v - math.Floor(v)
}

// FractalNoise суммирует octaves вызовов PointNoise с геометрически растущей
// частотой (умножение на lacunarity) и геометрически убывающей амплитудой
// (умножение на persistence). Сумма нормализуется накопленной амплитудой,
// поэтому результат лежит в [0,1] при любом числе октав.
// Поле двумерное: координата y зафиксирована нулем.
func FractalNoise(x, z float64, seed int64, octaves int, persistence, lacunarity, scale float64) float64 {
	if octaves <= 0 {
		return 0
	}

	total := 0.0
	amplitude := 1.0
	frequency := scale
	maxAmplitude := 0.0

	for i := 0; i < octaves; i++ {
		total += PointNoise(x*frequency, 0, z*frequency, seed) * amplitude
		maxAmplitude += amplitude
		amplitude *= persistence
		frequency *= lacunarity
	}

	return total / maxAmplitude
}
