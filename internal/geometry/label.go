package geometry

// component is one 8-connected foreground set with its bounding box.
type component struct {
	pixels                 []int
	minX, minY, maxX, maxY int
	touchesBorder          bool
}

var neighbours8 = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// label returns the 8-connected components of fg in scan order.
func label(fg []bool, w, h int) []component {
	seen := make([]bool, len(fg))
	var out []component
	var queue []int
	for start, on := range fg {
		if !on || seen[start] {
			continue
		}
		c := component{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := p%w, p/w
			c.pixels = append(c.pixels, p)
			c.minX, c.maxX = min(c.minX, x), max(c.maxX, x)
			c.minY, c.maxY = min(c.minY, y), max(c.maxY, y)
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				c.touchesBorder = true
			}
			for _, d := range neighbours8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				q := ny*w + nx
				if fg[q] && !seen[q] {
					seen[q] = true
					queue = append(queue, q)
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// fillHoles returns the component's pixels plus every pixel inside its
// bounding box that is not 4-connected to the box edge through pixels outside
// the component.
func fillHoles(c component, w int) []int {
	bw := c.maxX - c.minX + 3
	bh := c.maxY - c.minY + 3
	in := make([]bool, bw*bh)
	for _, p := range c.pixels {
		in[(p/w-c.minY+1)*bw+(p%w-c.minX+1)] = true
	}

	outside := make([]bool, bw*bh)
	outside[0] = true
	stack := []int{0}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := p%bw, p/bw
		for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || ny < 0 || nx >= bw || ny >= bh {
				continue
			}
			q := ny*bw + nx
			if !in[q] && !outside[q] {
				outside[q] = true
				stack = append(stack, q)
			}
		}
	}

	filled := make([]int, 0, len(c.pixels))
	for y := 1; y < bh-1; y++ {
		for x := 1; x < bw-1; x++ {
			if !outside[y*bw+x] {
				filled = append(filled, (y-1+c.minY)*w+(x-1+c.minX))
			}
		}
	}
	return filled
}
