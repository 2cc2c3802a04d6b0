package scene

// Box is the world volume the camera looks into.
type Box struct {
	Width  float64
	Height float64
	Depth  float64
}

const lightInset = 0.01

// Preamble returns the fixed camera, lighting and backdrop statements for a
// world box: a corner camera aimed at the box centre, four white lights just
// inside the corners, a white floor and a yellow back wall.
func Preamble(box Box) []Statement {
	d := lightInset
	return []Statement{
		Include{File: "colors.inc"},
		Include{File: "finish.inc"},
		Camera{
			Location: Vector{-0.5, -0.5, -0.5},
			LookAt:   Vector{box.Width/2 - 1, box.Height/2 - 1, box.Depth/2 - 1},
			Angle:    90,
		},
		AmbientLight{Color: "White"},
		LightSource{Position: Vector{-1 + d, -1 + d, -1 + d}, Color: "White"},
		LightSource{Position: Vector{box.Width - d, -1 + d, -1 + d}, Color: "White"},
		LightSource{Position: Vector{box.Width - d, -1 + d, box.Depth + d}, Color: "White"},
		LightSource{Position: Vector{box.Width - d, box.Height - d, box.Depth - d}, Color: "White"},
		Plane{Normal: Vector{0, 1, 0}, Distance: -1, Pigment: "White"},
		Plane{Normal: Vector{0, 0, 1}, Distance: box.Depth + 1, Pigment: "Yellow"},
	}
}
